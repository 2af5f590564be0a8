// Package config loads the YAML configuration of an adshub instance.
//
// A configuration names one controller, the session options, and the
// variables to keep subscribed:
//
//	controller:
//	  host: 192.168.1.10
//	  ams_net_id: 192.168.1.10.1.1
//	options:
//	  operation_timeout: 5
//	  max_failures: 3
//	variables:
//	  - name: Boiler temperature
//	    type: sensor
//	    plc_address: MAIN.temperature
//	    plc_type: REAL
//	    factor: 0.1
//
// Durations accept either a number of seconds or a Go duration string
// such as "500ms". Load applies defaults and validates the result.
// Watcher reloads the file when it changes on disk.
package config
