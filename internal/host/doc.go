// Package host plays the part of the browser around a worker: it tracks worker
// versions through installing, waiting, active and redundant, remembers which
// clients each version controls, routes their requests and collects the
// notifications and windows a worker asks for.
package host
