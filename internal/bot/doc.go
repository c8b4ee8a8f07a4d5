// Package bot is the chat surface: commands, inline menus and the lookup
// flow that turns a username into an upgrade request for the dispatch
// service.
package bot
