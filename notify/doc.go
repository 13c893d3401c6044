// Package notify posts bot replies (comments and reactions) to the forge,
// either inline or through a job queue drained by a Worker.
package notify
