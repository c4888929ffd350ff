package s3

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/thumbforge/preview-processor/internal/instance"
)

type Options struct {
	Region      string
	Endpoint    string
	AccessToken string
	SecretKey   string
}

type s3Instance struct {
	session    *session.Session
	client     *awss3.S3
	downloader *s3manager.Downloader
	uploader   *s3manager.Uploader
}

func New(ctx context.Context, o Options) (instance.S3, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String(o.Region),
		Endpoint:         aws.String(o.Endpoint),
		S3ForcePathStyle: aws.Bool(true),
		Credentials:      credentials.NewStaticCredentials(o.AccessToken, o.SecretKey, ""),
	})
	if err != nil {
		return nil, err
	}

	return &s3Instance{
		session:    sess,
		client:     awss3.New(sess),
		downloader: s3manager.NewDownloader(sess),
		uploader:   s3manager.NewUploader(sess),
	}, nil
}

func (a *s3Instance) UploadFile(ctx context.Context, input *s3manager.UploadInput) error {
	_, err := a.uploader.UploadWithContext(ctx, input)

	return err
}

func (a *s3Instance) DownloadFile(ctx context.Context, w io.WriterAt, input *awss3.GetObjectInput) error {
	_, err := a.downloader.DownloadWithContext(ctx, w, input)

	return err
}

func (a *s3Instance) ListBuckets(ctx context.Context) (*awss3.ListBucketsOutput, error) {
	return a.client.ListBucketsWithContext(ctx, &awss3.ListBucketsInput{})
}
