// Package approval implements the manual gate layer. It allows selected jobs
// to be paused until an explicit approve or reject decision is recorded.
package approval
