// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import "strings"

// aggregateEntryID names the corpus entry used as the fan-in node of
// template and retrieval plans.
const aggregateEntryID = "aggregate-outputs"

// planTemplate is a curated diagnostic strategy for one domain: a probe
// command, a fan-out of parallel collectors gated on the probe, and an
// aggregation node fed by every collector over DATA edges.
type planTemplate struct {
	// domains lists the intent domains this template serves.
	domains []string

	// description labels the hypothesis in user-facing output.
	description string

	// probe is the entry ID of the first command. The fan-out waits for
	// it via ORDERING edges.
	probe string

	// fanOut lists entry IDs run in parallel after the probe.
	fanOut []string
}

// planTemplates holds the curated strategies in evaluation order.
var planTemplates = []planTemplate{
	{
		domains:     []string{"audio/headphone_volume", "audio/system_volume"},
		description: "Audio volume diagnostics: probe the sound server, then collect sink, card, mixer, and USB state in parallel",
		probe:       "audio-server-info",
		fanOut: []string{
			"audio-list-sinks",
			"audio-list-cards",
			"audio-mixer-master",
			"usb-devices",
		},
	},
	{
		domains:     []string{"storage/disk_usage"},
		description: "Disk usage diagnostics: check filesystem usage, then map block devices",
		probe:       "disk-usage",
		fanOut:      []string{"block-devices"},
	},
	{
		domains:     []string{"network/connectivity"},
		description: "Network connectivity diagnostics: list interfaces, then collect routes and socket state in parallel",
		probe:       "network-interfaces",
		fanOut:      []string{"network-routes", "network-sockets"},
	},
	{
		domains:     []string{"system/performance"},
		description: "System performance diagnostics: check load, then collect memory and process state in parallel",
		probe:       "system-load",
		fanOut:      []string{"memory-usage", "process-list"},
	},
}

// templateFor returns the curated template for a domain, if one exists.
func templateFor(domain string) (planTemplate, bool) {
	for _, t := range planTemplates {
		for _, d := range t.domains {
			if d == domain {
				return t, true
			}
		}
	}
	return planTemplate{}, false
}

// templateHypothesisID derives a stable hypothesis ID from a domain.
func templateHypothesisID(domain string) string {
	return "hyp-template-" + strings.ReplaceAll(domain, "/", "-")
}
