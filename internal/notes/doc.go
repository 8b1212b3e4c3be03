// Package notes persists finished meeting notes as pages in a Notion database.
package notes
