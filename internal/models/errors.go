package models

import "errors"

// ErrPurchaseNotFound is returned by purchase stores when no record exists
// for the requested id.
var ErrPurchaseNotFound = errors.New("purchase not found")
