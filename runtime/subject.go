// Package runtime connects the dispatcher to the network: a NATS-backed
// Caller for outbound runtime calls and an ActionServer that serves a
// service's actions over queue subscriptions.
package runtime

import "strings"

// SubjectPrefix is the root of every call subject.
const SubjectPrefix = "svk.call"

var subjectEscaper = strings.NewReplacer(
	".", "-",
	"/", "_",
	" ", "_",
	"*", "_",
	">", "_",
)

// Subject derives the NATS subject for one action. Service names and
// versions are escaped into valid subject tokens; both sides of a call must
// use this function so caller and callee agree on the mapping.
func Subject(service, version, action string) string {
	return SubjectPrefix + "." +
		subjectEscaper.Replace(service) + "." +
		subjectEscaper.Replace(version) + "." +
		subjectEscaper.Replace(action)
}
