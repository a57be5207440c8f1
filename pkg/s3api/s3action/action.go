// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package s3action

// Action is the closed set of S3 operations the gateway recognizes.
// https://docs.aws.amazon.com/AmazonS3/latest/API/API_Operations_Amazon_Simple_Storage_Service.html
//
// Actions after endSupported are routed so that they are answered with
// NotImplemented instead of being mistaken for a plain bucket or object
// request (GET /bucket?versioning must not become ListObjects).
type Action int

// OperationType classifies S3 actions by their effect on data.
type OperationType int

const (
	OpRead  OperationType = iota // GET, HEAD
	OpWrite                      // PUT, POST, DELETE
	OpList                       // enumeration
)

func (o OperationType) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpList:
		return "list"
	default:
		return "unknown"
	}
}

const (
	Unknown Action = iota

	// Service
	ListBuckets

	// Bucket
	CreateBucket
	DeleteBucket
	HeadBucket
	GetBucketLocation
	ListObjects
	ListObjectsV2
	ListMultipartUploads
	DeleteObjects

	// Object
	PutObject
	CopyObject
	GetObject
	HeadObject
	DeleteObject

	// Multipart
	CreateMultipartUpload
	UploadPart
	UploadPartCopy
	ListParts
	CompleteMultipartUpload
	AbortMultipartUpload

	endSupported

	// Recognized, never implemented.
	GetBucketVersioning
	PutBucketVersioning
	ListObjectVersions
	GetBucketAcl
	PutBucketAcl
	GetObjectAcl
	PutObjectAcl
	GetBucketPolicy
	PutBucketPolicy
	DeleteBucketPolicy
	GetBucketEncryption
	PutBucketEncryption
	DeleteBucketEncryption
	GetBucketLifecycleConfiguration
	PutBucketLifecycleConfiguration
	DeleteBucketLifecycle
	GetBucketReplication
	PutBucketReplication
	DeleteBucketReplication
	GetBucketTagging
	PutBucketTagging
	DeleteBucketTagging
	GetObjectTagging
	PutObjectTagging
	DeleteObjectTagging
	GetBucketCors
	PutBucketCors
	DeleteBucketCors
	PostObject
	SelectObjectContent
	RestoreObject

	endActions
)

var actionNames = [...]string{
	Unknown:                         "Unknown",
	ListBuckets:                     "ListBuckets",
	CreateBucket:                    "CreateBucket",
	DeleteBucket:                    "DeleteBucket",
	HeadBucket:                      "HeadBucket",
	GetBucketLocation:               "GetBucketLocation",
	ListObjects:                     "ListObjects",
	ListObjectsV2:                   "ListObjectsV2",
	ListMultipartUploads:            "ListMultipartUploads",
	DeleteObjects:                   "DeleteObjects",
	PutObject:                       "PutObject",
	CopyObject:                      "CopyObject",
	GetObject:                       "GetObject",
	HeadObject:                      "HeadObject",
	DeleteObject:                    "DeleteObject",
	CreateMultipartUpload:           "CreateMultipartUpload",
	UploadPart:                      "UploadPart",
	UploadPartCopy:                  "UploadPartCopy",
	ListParts:                       "ListParts",
	CompleteMultipartUpload:         "CompleteMultipartUpload",
	AbortMultipartUpload:            "AbortMultipartUpload",
	endSupported:                    "Unknown",
	GetBucketVersioning:             "GetBucketVersioning",
	PutBucketVersioning:             "PutBucketVersioning",
	ListObjectVersions:              "ListObjectVersions",
	GetBucketAcl:                    "GetBucketAcl",
	PutBucketAcl:                    "PutBucketAcl",
	GetObjectAcl:                    "GetObjectAcl",
	PutObjectAcl:                    "PutObjectAcl",
	GetBucketPolicy:                 "GetBucketPolicy",
	PutBucketPolicy:                 "PutBucketPolicy",
	DeleteBucketPolicy:              "DeleteBucketPolicy",
	GetBucketEncryption:             "GetBucketEncryption",
	PutBucketEncryption:             "PutBucketEncryption",
	DeleteBucketEncryption:          "DeleteBucketEncryption",
	GetBucketLifecycleConfiguration: "GetBucketLifecycleConfiguration",
	PutBucketLifecycleConfiguration: "PutBucketLifecycleConfiguration",
	DeleteBucketLifecycle:           "DeleteBucketLifecycle",
	GetBucketReplication:            "GetBucketReplication",
	PutBucketReplication:            "PutBucketReplication",
	DeleteBucketReplication:         "DeleteBucketReplication",
	GetBucketTagging:                "GetBucketTagging",
	PutBucketTagging:                "PutBucketTagging",
	DeleteBucketTagging:             "DeleteBucketTagging",
	GetObjectTagging:                "GetObjectTagging",
	PutObjectTagging:                "PutObjectTagging",
	DeleteObjectTagging:             "DeleteObjectTagging",
	GetBucketCors:                   "GetBucketCors",
	PutBucketCors:                   "PutBucketCors",
	DeleteBucketCors:                "DeleteBucketCors",
	PostObject:                      "PostObject",
	SelectObjectContent:             "SelectObjectContent",
	RestoreObject:                   "RestoreObject",
	endActions:                      "Unknown",
}

func (a Action) String() string {
	if a < 0 || a >= endActions {
		return "Unknown"
	}
	return actionNames[a]
}

// ParseAction returns the action with the given name, or Unknown.
func ParseAction(name string) Action {
	for i, n := range actionNames {
		if n == name && Action(i) != endSupported && Action(i) != endActions {
			return Action(i)
		}
	}
	return Unknown
}

// Supported reports whether the gateway implements the action.
func (a Action) Supported() bool {
	return a > Unknown && a < endSupported && a != UploadPartCopy
}

// All returns every named action except Unknown, in declaration order.
func All() []Action {
	out := make([]Action, 0, int(endActions))
	for a := Unknown + 1; a < endActions; a++ {
		if a == endSupported {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (a Action) OperationType() OperationType {
	switch a {
	case ListBuckets,
		ListObjects,
		ListObjectsV2,
		ListObjectVersions,
		ListMultipartUploads,
		ListParts:
		return OpList

	case HeadBucket,
		GetBucketLocation,
		GetObject,
		HeadObject,
		GetBucketVersioning,
		GetBucketAcl,
		GetObjectAcl,
		GetBucketPolicy,
		GetBucketEncryption,
		GetBucketLifecycleConfiguration,
		GetBucketReplication,
		GetBucketTagging,
		GetObjectTagging,
		GetBucketCors,
		Unknown:
		return OpRead

	default:
		return OpWrite
	}
}

// IsWrite reports whether the action changes state on the network.
func (a Action) IsWrite() bool {
	return a.OperationType() == OpWrite
}
