/*
Command imapsearch builds IMAP SEARCH commands from search criteria, and keeps
named queries in a local cache.

	imapsearch [-config imapsearch.conf] [-loglevel level] [-metrics] ...
	imapsearch build [flags] criterion ...
	imapsearch cache save [-mailbox mailbox] [-charset charset] name criterion ...
	imapsearch cache show [-caps list] [-all] [-uid] [-tag tag] [-json] name
	imapsearch cache list [-mailbox mailbox]
	imapsearch cache delete name
	imapsearch cache backup dest-file
	imapsearch cache verify [database-file]
	imapsearch capabilities capability-line
	imapsearch config test
	imapsearch config describe >imapsearch.conf
	imapsearch metrics
	imapsearch version
	imapsearch help [command ...]

Example:

	$ imapsearch build -caps WITHIN unseen or younger=24h
	A1 SEARCH OR (YOUNGER 86400) UNSEEN
*/
package main
