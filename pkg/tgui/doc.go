// Package tgui provides small helpers for Telegram HTML parse mode.
//
// Values of type H are already escaped and can be concatenated into a
// message sent with ParseMode="HTML".
package tgui
