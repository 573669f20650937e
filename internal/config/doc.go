// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation,
// which is how wallet keys are normally supplied (private_key: ${BJ_PRIVATE_KEY}).
package config
