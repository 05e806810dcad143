// Package config provides configuration management for labelctl.
//
// Configuration is loaded in layers, later layers overriding earlier ones:
//
//  1. Default configuration (compiled in)
//  2. User configuration (~/.config/labelctl/config.yaml)
//  3. Project configuration (./.labelctl/config.yaml)
//  4. Environment variables prefixed with LABELCTL_
//
// A single file can replace layers 2 and 3 with LoadConfigFromPath.
// Secrets such as tunnel tokens are only ever read from the environment
// and are never written back to YAML.
//
// Example:
//
//	dataDir: /var/lib/labelctl
//	services:
//	  - name: api
//	    port: 5000
//	spooler:
//	  vendorTokens: ["zebra"]
//	  readyTimeout: 30s
//	tunnel:
//	  provider: cloudflare_named
//	  domain: print.example.com
//	  probeAttempts: 5
//	  probeDelay: 3s
package config
