// Package inbox turns audio files dropped into a directory into units.
//
// The watcher scans the directory once at start, then follows fsnotify
// events. A file is registered only after it has stopped changing for the
// settle period, so partially copied recordings are not picked up.
// Registration of a source that already exists is not an error.
package inbox
