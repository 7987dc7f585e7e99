// Package crawler implements the composable indexing engine: the base file
// crawler, regular-expression and JSON document sources, statepoint-aware
// project crawlers, the master crawler that discovers access modules, and
// payload fetch resolution through access modules and grids.
package crawler
