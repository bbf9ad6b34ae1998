//go:build !unix

package main

import "os"

func progressSignals() chan os.Signal { return make(chan os.Signal, 1) }
