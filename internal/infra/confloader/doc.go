// Package confloader provides configuration loading.
//
// Loader layers a YAML file, environment variables and command-line
// overrides over a defaults struct using koanf. Watcher reports changes to
// individual files with fsnotify; the node uses it to reload its
// contact-plan file, its log level and its TLS certificate.
package confloader
