package blob

import (
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-import/internal/resilience"
)

// S3Config holds the connection settings for the S3 blob store.
type S3Config struct {
	Bucket       string `yaml:"bucket" mapstructure:"bucket"`
	Region       string `yaml:"region" mapstructure:"region"`
	AccessKey    string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey    string `yaml:"secret_key" mapstructure:"secret_key"`
	Endpoint     string `yaml:"endpoint" mapstructure:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style" mapstructure:"use_path_style"`
}

// S3Store implements Store against an S3 bucket. Downloads retry on
// transient failures since a commit invocation dies with the file.
type S3Store struct {
	bucket     string
	downloader *s3manager.Downloader
	uploader   *s3manager.Uploader
	client     *s3.S3
	retry      resilience.RetryConfig
}

// NewS3 builds an S3Store from config. Static credentials are optional;
// when empty the default AWS credential chain applies.
func NewS3(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("blob: s3 bucket is required")
	}

	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.UsePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, eris.Wrap(err, "blob: create aws session")
	}

	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("s3", "download")

	return &S3Store{
		bucket:     cfg.Bucket,
		downloader: s3manager.NewDownloader(sess),
		uploader:   s3manager.NewUploader(sess),
		client:     s3.New(sess),
		retry:      retry,
	}, nil
}

func (s *S3Store) Upload(ctx context.Context, key string, r io.Reader) (string, error) {
	if key == "" {
		return "", errKeyRequired
	}
	hash, err := uploadWithHash(r, func(hr io.Reader) error {
		_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   hr,
		})
		return err
	})
	if err != nil {
		return "", eris.Wrapf(err, "blob: upload s3://%s/%s", s.bucket, key)
	}
	return hash, nil
}

func (s *S3Store) Download(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errKeyRequired
	}
	data, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([]byte, error) {
		buf := aws.NewWriteAtBuffer(nil)
		_, err := s.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "blob: download s3://%s/%s", s.bucket, key)
	}
	return data, nil
}

// SignedURL presigns a GET for the object; expiry bounds how long the
// reference stays usable.
func (s *S3Store) SignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	if key == "" {
		return "", errKeyRequired
	}
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(expiry)
	if err != nil {
		return "", eris.Wrapf(err, "blob: presign s3://%s/%s", s.bucket, key)
	}
	return url, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errKeyRequired
	}
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return eris.Wrapf(err, "blob: delete s3://%s/%s", s.bucket, key)
}
