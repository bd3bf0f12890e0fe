// Package tgui holds Telegram text helpers for ParseMode="HTML":
// escaping, truncation and splitting to the message size limit.
package tgui
