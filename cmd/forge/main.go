// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command forge runs the code improvement service and its maintenance
// subcommands.
//
// # Usage
//
//	# Start the HTTP server
//	forge serve --config /etc/forge/forge.yaml
//
//	# Export one repository's knowledge graph to GraphML
//	forge export <repo-id> --out graph.graphml
//
//	# Check that the external tools the pipeline shells out to exist
//	forge doctor
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
