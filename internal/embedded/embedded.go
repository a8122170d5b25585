// Package embedded links every built-in format reader into the binary.
// Importing it for side effects registers the readers with core/importer.
package embedded

import (
	// Format readers
	_ "github.com/FocuswithJustin/onexrd/internal/formats/bruker"
	_ "github.com/FocuswithJustin/onexrd/internal/formats/cif"
	_ "github.com/FocuswithJustin/onexrd/internal/formats/generic"
	_ "github.com/FocuswithJustin/onexrd/internal/formats/xrdml"
)

// FormatIDs lists the readers this package registers.
var FormatIDs = []string{"bruker", "cif", "generic", "xrdml"}
