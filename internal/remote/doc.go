// Package remote holds the HTTP clients for the executor service (target
// resolution, status lookup, upgrade execution) and for DNS profile
// provisioning. Both satisfy the ports declared by internal/dispatch.
package remote
