// Package config loads the load balancer configuration from YAML files,
// environment variables and command-line flags. It defines the listener
// settings, the ordered backend list, relay tuning and logging options, and
// validates all of them before anything starts listening.
package config
