// Package config loads the dockercloud client configuration.
//
// Configuration is read from a YAML (.yaml, .yml) or TOML (.toml) file,
// overlaid with environment variables and validated:
//
//	DOCKERCLOUD_USER           Docker ID used for basic auth
//	DOCKERCLOUD_APIKEY         API key used for basic auth
//	DOCKERCLOUD_REST_HOST      REST endpoint, default https://cloud.docker.com
//	DOCKERCLOUD_STREAM_HOST    event stream host, default wss://ws.cloud.docker.com
//	DOCKERCLOUD_WAIT_INTERVAL  poll interval, a duration or milliseconds
//
// A minimal YAML file:
//
//	api:
//	  user: alice
//	  apikey: 0123abcd
//	wait:
//	  interval: 5s
//	  max_poll_failures: 5
//	  timeout: 10m
//	journal:
//	  enabled: true
//
// Watch reloads the file on change so long-running processes can pick up a
// new poll interval without restarting.
package config
