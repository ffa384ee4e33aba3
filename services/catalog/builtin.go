// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

// BuiltinEntries returns the seed corpus of common Linux diagnostic commands.
//
// Description:
//
//	The builtin corpus makes the pipeline usable offline with no corpus files
//	configured. Every builtin command is read-only: it observes system state
//	and never mutates it. User-supplied corpus files are appended after these
//	entries, so builtin entries win score ties against same-scored user
//	entries by insertion order.
func BuiltinEntries() []Entry {
	return []Entry{
		// --- Audio ---
		{
			ID:       "audio-server-info",
			Title:    "pactl info",
			Kind:     KindCommand,
			Body:     "Show information about the running sound server. Reports whether PipeWire or PulseAudio is active, the default sink and source, and the server version. The first step when diagnosing any audio problem such as low volume, muted output, or missing devices.",
			Tags:     []string{"audio", "diagnose"},
			Exec:     []string{"pactl", "info"},
			ReadOnly: true,
			Outputs:  []string{"audio_server_status"},
		},
		{
			ID:       "audio-list-sinks",
			Title:    "pactl list sinks",
			Kind:     KindCommand,
			Body:     "List audio output sinks with their volume levels, mute state, active port, and supported sample formats. Shows whether headphones or speakers are selected and whether a sink volume is set too low or muted.",
			Tags:     []string{"audio", "diagnose", "volume"},
			Exec:     []string{"pactl", "list", "sinks"},
			ReadOnly: true,
			Outputs:  []string{"sink_state"},
		},
		{
			ID:       "audio-list-cards",
			Title:    "pactl list cards",
			Kind:     KindCommand,
			Body:     "List sound cards with their active profiles and available ports. Useful to see whether the right card profile is selected, for example HDMI output instead of analog headphones.",
			Tags:     []string{"audio", "diagnose"},
			Exec:     []string{"pactl", "list", "cards"},
			ReadOnly: true,
			Outputs:  []string{"card_state"},
		},
		{
			ID:       "audio-mixer-master",
			Title:    "amixer sget Master",
			Kind:     KindCommand,
			Body:     "Show the ALSA mixer state of the Master control: playback volume percentage per channel and mute switches. Catches low volume or muting at the ALSA layer below the sound server.",
			Tags:     []string{"audio", "diagnose", "volume"},
			Exec:     []string{"amixer", "sget", "Master"},
			ReadOnly: true,
			Outputs:  []string{"mixer_state"},
		},
		{
			ID:       "usb-devices",
			Title:    "lsusb",
			Kind:     KindCommand,
			Body:     "List USB devices attached to the system. Identifies USB headsets, DACs, webcams, and storage devices with their bus and device numbers, which other commands need to address a specific device.",
			Tags:     []string{"audio", "hardware", "diagnose"},
			Exec:     []string{"lsusb"},
			ReadOnly: true,
			Outputs:  []string{"usb_devices"},
		},
		// --- Storage ---
		{
			ID:       "disk-usage",
			Title:    "df -h",
			Kind:     KindCommand,
			Body:     "Report filesystem disk space usage in human-readable units. Shows used and available space per mounted filesystem. The starting point for out-of-space and disk-full problems.",
			Tags:     []string{"storage", "diagnose"},
			Exec:     []string{"df", "-h"},
			ReadOnly: true,
			Outputs:  []string{"filesystem_usage"},
		},
		{
			ID:       "block-devices",
			Title:    "lsblk",
			Kind:     KindCommand,
			Body:     "List block devices in a tree: disks, partitions, and their mount points and sizes. Shows which disks exist and where they are mounted.",
			Tags:     []string{"storage", "diagnose"},
			Exec:     []string{"lsblk"},
			ReadOnly: true,
			Outputs:  []string{"block_devices"},
		},
		// --- Memory / CPU / system ---
		{
			ID:       "memory-usage",
			Title:    "free -h",
			Kind:     KindCommand,
			Body:     "Display the amount of free and used physical memory and swap. Useful when the system feels slow or processes are being killed for memory pressure.",
			Tags:     []string{"system", "memory", "diagnose"},
			Exec:     []string{"free", "-h"},
			ReadOnly: true,
			Outputs:  []string{"memory_usage"},
		},
		{
			ID:       "system-load",
			Title:    "uptime",
			Kind:     KindCommand,
			Body:     "Show how long the system has been running together with the load averages for the past 1, 5, and 15 minutes. A quick indicator of sustained CPU pressure.",
			Tags:     []string{"system", "performance", "diagnose"},
			Exec:     []string{"uptime"},
			ReadOnly: true,
			Outputs:  []string{"load_average"},
		},
		{
			ID:       "process-list",
			Title:    "ps aux",
			Kind:     KindCommand,
			Body:     "List every running process with its owner, CPU and memory usage, and full command line. Used to find runaway processes or confirm that a daemon such as an audio server is running.",
			Tags:     []string{"system", "process", "diagnose"},
			Exec:     []string{"ps", "aux"},
			ReadOnly: true,
			Outputs:  []string{"process_list"},
		},
		{
			ID:       "kernel-info",
			Title:    "uname -a",
			Kind:     KindCommand,
			Body:     "Print kernel name, release, version, and machine architecture. Establishes the baseline environment when diagnosing driver or compatibility issues.",
			Tags:     []string{"system", "diagnose"},
			Exec:     []string{"uname", "-a"},
			ReadOnly: true,
			Outputs:  []string{"kernel_info"},
		},
		{
			ID:       "cpu-info",
			Title:    "lscpu",
			Kind:     KindCommand,
			Body:     "Display CPU architecture information: cores, threads, model name, frequencies, and virtualization support.",
			Tags:     []string{"system", "hardware", "diagnose"},
			Exec:     []string{"lscpu"},
			ReadOnly: true,
			Outputs:  []string{"cpu_info"},
		},
		// --- Network ---
		{
			ID:       "network-interfaces",
			Title:    "ip addr",
			Kind:     KindCommand,
			Body:     "Show network interfaces with their link state and assigned IPv4 and IPv6 addresses. The first check for connectivity problems: is the interface up and does it have an address.",
			Tags:     []string{"network", "diagnose"},
			Exec:     []string{"ip", "addr"},
			ReadOnly: true,
			Outputs:  []string{"interface_state"},
		},
		{
			ID:       "network-routes",
			Title:    "ip route",
			Kind:     KindCommand,
			Body:     "Show the kernel routing table including the default gateway. Missing default routes explain why local traffic works while the internet is unreachable.",
			Tags:     []string{"network", "diagnose"},
			Exec:     []string{"ip", "route"},
			ReadOnly: true,
			Outputs:  []string{"routing_table"},
		},
		{
			ID:       "network-sockets",
			Title:    "ss -tuna",
			Kind:     KindCommand,
			Body:     "Dump TCP and UDP socket statistics: listening ports and established connections with addresses. Confirms whether a service is actually listening where it should.",
			Tags:     []string{"network", "diagnose"},
			Exec:     []string{"ss", "-tuna"},
			ReadOnly: true,
			Outputs:  []string{"socket_state"},
		},
		// --- Files ---
		{
			ID:       "list-directory",
			Title:    "ls -la",
			Kind:     KindCommand,
			Body:     "List directory contents in long format including hidden files, permissions, owners, sizes, and modification times. General-purpose inspection of files and directories.",
			Tags:     []string{"files", "diagnose"},
			Exec:     []string{"ls", "-la"},
			ReadOnly: true,
			Outputs:  []string{"directory_listing"},
		},
		// --- Filters (consume upstream output on stdin) ---
		{
			ID:       "filter-grep",
			Title:    "grep -i {query}",
			Kind:     KindCommand,
			Body:     "Filter lines of text on standard input, keeping only lines that match a pattern case-insensitively. Chained after a producing command to focus its output.",
			Tags:     []string{"filter", "text"},
			Exec:     []string{"grep", "-i", "{query}"},
			ReadOnly: true,
			Inputs:   []string{"text"},
			Outputs:  []string{"matching_lines"},
		},
		{
			ID:       "count-bytes",
			Title:    "wc -c",
			Kind:     KindCommand,
			Body:     "Count the bytes of standard input. Chained after another command to measure the size of its output.",
			Tags:     []string{"filter", "text"},
			Exec:     []string{"wc", "-c"},
			ReadOnly: true,
			Inputs:   []string{"text"},
			Outputs:  []string{"byte_count"},
		},
		{
			ID:       "aggregate-outputs",
			Title:    "cat",
			Kind:     KindCommand,
			Body:     "Concatenate the buffered outputs of upstream diagnostic commands into a single stream for summarization and interpretation.",
			Tags:     []string{"aggregate"},
			Exec:     []string{"cat"},
			ReadOnly: true,
			Inputs:   []string{"diagnostics"},
			Outputs:  []string{"combined_report"},
		},
		// --- Documentation ---
		{
			ID:    "doc-low-volume",
			Title: "Troubleshooting low audio volume",
			Kind:  KindDocumentation,
			Body: "When audio output is too quiet or cannot be heard at all, work down the stack. " +
				"First confirm the sound server is running: pactl info reports whether PipeWire or PulseAudio is active and which sink is the default. " +
				"Second, inspect sink state with pactl list sinks; a sink may be muted, set to a low volume, or routed to the wrong port such as HDMI instead of headphones. " +
				"Third, check card profiles with pactl list cards; a card left in the off profile produces no output at all. " +
				"Fourth, inspect the ALSA layer with amixer sget Master, because the hardware mixer can cap volume below what the sound server requests. " +
				"Finally, for USB headsets, lsusb confirms the device enumerated and reveals the card number other tools need. " +
				"Headphone-specific complaints usually come down to the active port or a second volume slider applied per-application.",
			Tags: []string{"audio", "documentation", "volume"},
		},
		{
			ID:    "doc-disk-full",
			Title: "Investigating disk space exhaustion",
			Kind:  KindDocumentation,
			Body: "A disk-full condition shows up as failed writes, hung package installs, or services refusing to start. " +
				"Begin with df -h to find which filesystem is at capacity, then lsblk to map that filesystem to a physical device and confirm its size. " +
				"Deleted-but-open files keep consuming space until the holding process exits, so a filesystem can stay full after large files are removed.",
			Tags: []string{"storage", "documentation"},
		},
	}
}
