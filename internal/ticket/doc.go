// Package ticket turns the content of a print request into receipt text.
package ticket
