// Package discord adapts a discordgo session to the voice transport and
// messaging collaborators used by meetings.
package discord
