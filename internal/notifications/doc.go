// Package notifications delivers unit and batch events to ntfy.
//
// The service publishes to the topic URL configured in [notifications] and
// degrades to a no-op when no topic is set. Per-event switches in the config
// suppress events the operator does not want on their phone. Callers depend
// only on the Service interface.
package notifications
