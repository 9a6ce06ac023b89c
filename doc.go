// Package filestore provides a single facade for reading and writing blobs of
// data addressed by URI-like locators, regardless of which backend holds them:
// the local filesystem, HTTP/HTTPS servers, FTP/FTPS and SFTP servers,
// S3-compatible object storage, Azure blob storage or Google Cloud Storage.
//
// Each backend is a Transport, created from a Locator by a TransportProvider.
// Transports for every supported backend live in sub-packages of this module,
// and the autofs package registers all of them. A FileStore fans operations
// out across one or more transports, connecting lazily with bounded retry.
package filestore
