// Package jobs runs the periodic maintenance of the bot on a cron
// scheduler: pruning old usage counters and sending the admin digest.
package jobs
