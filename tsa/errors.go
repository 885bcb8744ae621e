package tsa

import "fmt"

var errBadDestKind = fmt.Errorf("tsa: unsupported application destination kind")
