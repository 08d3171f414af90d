// Package domain defines the session and event records for the resume
// subsystem, together with their lifecycle rules.
package domain
