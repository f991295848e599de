// Package probe provides the single-shot network checks lanprobe is built
// from: TCP connect, ICMP echo, reverse DNS and forward DNS.
//
// Every primitive blocks for at most its timeout, honors context
// cancellation, and reports failures through an Outcome value rather than
// an error. Only the fan-out layer above decides what a batch of outcomes
// means.
package probe
