// Package proxy turns Fiber requests into worker fetch events and writes the
// worker's answer back to the browser.
package proxy
