// Package s3 provides an AWS S3 blobstore.Store plus a DynamoDB-backed
// commit store that gives checkpoint mirrors the atomic pointer flip S3
// itself lacks.
package s3
