// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command guardctl is the CLI client for a running guardd daemon.
//
// Usage:
//
//	guardctl stats
//	guardctl incidents --limit 20
//	guardctl incidents --archive
//	guardctl stop "render loop runaway"
//	guardctl reset --max-calls 100 --window 2s
//	guardctl watch
package main

import (
	"os"

	"github.com/simulateai/loopguard/pkg/ux"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
}
