// Package display holds the notifier.Display implementations: the log
// console, freedesktop notify-send popups and a send-only Telegram bot.
package display
