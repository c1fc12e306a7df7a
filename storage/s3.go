package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"case-forge/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Archive legt Roh-Antworten des Modells und Quell-Snapshots in einem S3-kompatiblen Bucket ab.
type Archive struct {
	Client  *s3.Client
	Bucket  string
	BaseURL string
}

// NewArchive erstellt einen S3-Client für einen S3-kompatiblen Endpunkt.
func NewArchive(ctx context.Context, cfg *config.Config) (*Archive, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.ArchiveS3URL,
				SigningRegion:     cfg.ArchiveS3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.ArchiveS3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.ArchiveS3Key, cfg.ArchiveS3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return &Archive{Client: s3.NewFromConfig(awsCfg), Bucket: cfg.ArchiveS3Bucket, BaseURL: cfg.ArchiveS3URL}, nil
}

// Put lädt ein Objekt hoch und gibt den Link zurück.
func (a *Archive) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := a.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", a.BaseURL, a.Bucket, key), nil
}

// Rotate löscht unter prefix alle Objekte außer den keep neuesten und gibt die gelöschten Keys zurück.
// Einzelne Löschfehler brechen die Rotation nicht ab.
func (a *Archive) Rotate(ctx context.Context, prefix string, keep int) ([]string, error) {
	output, err := a.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.Bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, err
	}

	var deleted []string
	var lastErr error
	for _, key := range staleKeys(output.Contents, keep) {
		_, err := a.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(a.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			lastErr = fmt.Errorf("delete %s: %w", key, err)
			continue
		}
		deleted = append(deleted, key)
	}
	return deleted, lastErr
}

// staleKeys sortiert nach LastModified absteigend und liefert alles nach den keep neuesten.
func staleKeys(objects []types.Object, keep int) []string {
	if keep < 0 {
		keep = 0
	}
	if len(objects) <= keep {
		return nil
	}
	sorted := append([]types.Object(nil), objects...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return aws.ToTime(sorted[i].LastModified).After(aws.ToTime(sorted[j].LastModified))
	})
	var keys []string
	for _, obj := range sorted[keep:] {
		keys = append(keys, aws.ToString(obj.Key))
	}
	return keys
}
