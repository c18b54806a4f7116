package storage

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	jsoniter "github.com/json-iterator/go"
	"github.com/lucambottino/ec2-price-collector/internal/config"
)

// S3 is for archiving tick batches as objects in an S3 bucket, one
// object per committed batch.
type S3 struct {
	Client *awss3.Client
	Cfg    *config.S3
}

var s3Storage S3

// InitS3 initializes s3 client with configured values.
func InitS3(appCtx context.Context, cfg *config.S3) (*S3, error) {
	if s3Storage.Client == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.MaxIdleConns = cfg.MaxIdleConns
		t.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
		awsCfg, err := awsconfig.LoadDefaultConfig(appCtx,
			awsconfig.WithRegion(cfg.AWSRegion),
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			),
			awsconfig.WithHTTPClient(&http.Client{
				Timeout:   time.Duration(cfg.ReqTimeoutSec) * time.Second,
				Transport: t,
			}),
		)
		if err != nil {
			return nil, err
		}
		s3Storage = S3{
			Client: awss3.NewFromConfig(awsCfg),
			Cfg:    cfg,
		}
	}
	return &s3Storage, nil
}

// GetS3 returns already prepared s3 instance.
func GetS3() *S3 {
	return &s3Storage
}

// CommitTicks stores the input batch as one JSON object. Object name is
// the commit time in unix nanoseconds, optionally prefixed with "tick/"
// so different data sets can share a bucket.
func (s *S3) CommitTicks(ctx context.Context, data []Tick) error {
	if len(data) == 0 {
		return nil
	}
	body, err := jsoniter.Marshal(data)
	if err != nil {
		return err
	}
	key := strconv.FormatInt(time.Now().UTC().UnixNano(), 10) + ".json"
	if s.Cfg.UsePrefixForObjName {
		key = "tick/" + key
	}
	_, err = s.Client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(s.Cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	return err
}
