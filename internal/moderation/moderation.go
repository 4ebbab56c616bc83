// Package moderation screens submitted entry content before it is stored.
// It classifies payloads that look like injection attacks (XSS, SQL
// injection, shell metacharacters) and strips markup from content that is
// accepted.
package moderation
