// Package periodic runs engine housekeeping tasks on a ticker.
//
// The clock sweep and the contact-plan synchronizer are both Tasks driven by
// a Runner. A Runner can be triggered out of band (for example right after
// startup recovery) without disturbing its period, and stopping it waits
// for an in-flight run to finish.
package periodic
