// Package pubmed is a small client for the NCBI E-utilities literature
// search API.
//
// A lookup is two requests: esearch resolves a term to ranked PubMed IDs and
// esummary fetches title, authors, journal and publication date for those IDs.
// Requests are throttled to the NCBI fair-use rate and successful lookups are
// cached for a short time.
package pubmed
