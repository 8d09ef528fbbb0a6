// Package config handles configuration loading for voxrelay.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	inference:
//	  api_key: "${VOXRELAY_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	inference:
//	  timeout: "90s"
//	queue:
//	  visibility_timeout: "5m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # WebSocket transport and health probe
//
// Database:
//
//	database:
//	  path: "/var/lib/voxrelay/voxrelay.db"
//
// Inference backend (any OpenAI-compatible endpoint, including Ollama):
//
//	inference:
//	  base_url: "http://localhost:11434/v1"
//	  api_key: "${VOXRELAY_API_KEY}"
//	  model: "llama3.2"
//	  max_tokens: 1024
//	  temperature: 0.7
//	  timeout: "90s"
//
// Speech backends:
//
//	speech:
//	  stt:
//	    base_url: "http://localhost:9000"
//	    timeout: "45s"
//	  tts:
//	    base_url: "http://localhost:9010"
//	    voice: "en-US-1"
//
// Queue tuning:
//
//	queue:
//	  visibility_timeout: "5m"
//	  workers:
//	    default: 2
//	    priority: 2
//	    gpu: 1
//	  retries:
//	    transcribe: 2
//	    infer: 2
//	    synthesize: 2
//
// Context assembly:
//
//	context:
//	  max_chars: 8000
//	  max_messages: 20
//	  system_prompt: "You are a helpful assistant."
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/voxrelay/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
