// Package script defines the contract between the render bridge and the
// engine that executes user scripts, along with a registry of named engine
// factories and the engines shipped with golobulus.
package script
