// Package mail delivers account emails for authcore.
//
// SMTP sends plain-text messages through gomail. Log writes a structured log
// line instead of sending, for development. Both satisfy authcore.Mailer.
package mail
