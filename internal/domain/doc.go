// Package domain contains the core entities of the gateway's coordination
// layer: task records with their lifecycle state machine, and tenants.
// Types here carry no persistence or transport concerns; those live in the
// store and platform packages.
package domain
