// Package labdirectory holds the laboratory registry and the geographic
// resolver that assigns a laboratory to a sample request.
package labdirectory

import (
	id "residuechain/pkg/domain"
)

// Laboratory is one registered testing laboratory.
type Laboratory struct {
	ID            id.LabID
	UserID        id.UserID
	Name          string
	LicenseNumber string
	State         string
	District      string
	Taluk         string
	Address       string
}

// Location is the requester's geographic hierarchy.
type Location struct {
	Taluk    string
	District string
	State    string
}
