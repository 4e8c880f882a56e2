// Package messages holds the ordered message list of the open conversation.
//
// A Store is a value: Append, Merge and MarkRead return a new Store and leave
// the receiver untouched. Messages are kept in ascending send order, equal
// timestamps in arrival order, and a message id appears at most once.
package messages
