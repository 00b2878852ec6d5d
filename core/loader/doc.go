// Package loader provides the plugin-like feature loading system.
//
// Features implement the Feature interface and are registered on a
// Manager, which initializes the enabled ones and wires their routes.
// This keeps modules like 'inventory' developable and testable in
// isolation from the server bootstrap.
package loader
