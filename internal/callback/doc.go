// Package callback implements the correlation broker for asynchronous host
// replies: single-use token issue, reply submission, and polling await.
// Each exchange lives in a single-slot mailbox keyed by correlation id.
package callback
