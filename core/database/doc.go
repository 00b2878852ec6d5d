// Package database handles the MySQL connection used by the inventory
// subsystem.
//
// It wraps GORM connection setup: DSN construction with encoded
// credentials and timeouts, connection pool limits, and an initial ping
// with a deadline. All inventory, segment and reservation-log rows live
// in this one database, which is what lets the try phase run as a
// single local transaction.
package database
