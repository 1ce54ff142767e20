//go:build !linux

package blob

import "os"

func adviseSequential(*os.File) {}
