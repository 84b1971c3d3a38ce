package app

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/mitchellh/mapstructure"

	"github.com/allopze/cloudbox-wopi/internal/adapter"
	"github.com/allopze/cloudbox-wopi/internal/adapter/memory"
	"github.com/allopze/cloudbox-wopi/internal/adapter/sqlstore"
	"github.com/allopze/cloudbox-wopi/internal/config"
	"github.com/allopze/cloudbox-wopi/internal/content"
	"github.com/allopze/cloudbox-wopi/internal/logger"
	"github.com/allopze/cloudbox-wopi/internal/secret"
	"github.com/allopze/cloudbox-wopi/internal/session"
)

// awsLoader loads the default AWS configuration once, on first use.
type awsLoader struct {
	cfg    aws.Config
	loaded bool
}

func (l *awsLoader) get(ctx context.Context) (aws.Config, error) {
	if l.loaded {
		return l.cfg, nil
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	l.cfg, l.loaded = cfg, true
	return cfg, nil
}

// resolveTokenSecret returns the HMAC secret for access tokens.
func resolveTokenSecret(ctx context.Context, cfg *config.Config, loader *awsLoader) (string, error) {
	if cfg.Token.Secret != "" {
		return cfg.Token.Secret, nil
	}

	var resolver secret.Resolver
	switch {
	case cfg.DevMode || cfg.Token.SecretSource == "env":
		resolver = secret.NewEnvResolver()
		logger.Info("Using EnvResolver for the token secret")
	case cfg.Token.SecretSource == "ssm":
		awsCfg, err := loader.get(ctx)
		if err != nil {
			return "", err
		}
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
		logger.Info("Using SSMResolver (SSM Parameter Store)")
	case cfg.Token.SecretSource == "kms":
		awsCfg, err := loader.get(ctx)
		if err != nil {
			return "", err
		}
		resolver = secret.NewKMSResolver(kms.NewFromConfig(awsCfg), cfg.Token.KMSKeyID)
		logger.Info("Using KMSResolver with key %s", cfg.Token.KMSKeyID)
	default:
		return "", fmt.Errorf("unknown secret source: %q", cfg.Token.SecretSource)
	}

	value, err := resolver.GetSecret(ctx, cfg.Token.SecretParam)
	if err != nil {
		return "", fmt.Errorf("failed to resolve token secret: %w", err)
	}
	return value, nil
}

// createRepository returns the metadata repository and its closer, if any.
func createRepository(ctx context.Context, cfg *config.DatabaseConfig) (adapter.Repository, func() error, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("Using in-memory repository; metadata is lost on restart")
		return memory.NewRepository(), nil, nil
	case "postgres", "sqlite":
		store, err := sqlstore.Open(ctx, cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("SQL repository initialized: driver=%s", cfg.Driver)
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver: %q (supported: memory, postgres, sqlite)", cfg.Driver)
	}
}

// createLocker returns the lock store and its closer, if any.
func createLocker(ctx context.Context, cfg *config.LocksConfig, loader *awsLoader) (session.Locker, func() error, error) {
	switch cfg.Type {
	case "memory":
		return session.NewMemoryLocker(cfg.Timeout), nil, nil
	case "dynamodb":
		awsCfg, err := loader.get(ctx)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("DynamoDB lock store initialized: table=%s", cfg.Table)
		return session.NewDynamoLocker(dynamodb.NewFromConfig(awsCfg), cfg.Table, cfg.Timeout), nil, nil
	case "badger":
		locker, err := session.OpenBadgerLocker(cfg.BadgerPath, cfg.Timeout)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Badger lock store initialized: path=%q", cfg.BadgerPath)
		return locker, locker.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock store type: %q (supported: memory, dynamodb, badger)", cfg.Type)
	}
}

// decodeSection decodes a per-type config map. Values set through the
// environment arrive as strings, hence weak typing.
func decodeSection(input map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

type filesystemConfig struct {
	Path string `mapstructure:"path"`
}

type s3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// createContentStore decodes the section matching cfg.Type and builds the store.
func createContentStore(ctx context.Context, cfg *config.ContentConfig) (content.Store, error) {
	switch cfg.Type {
	case "filesystem":
		var fsCfg filesystemConfig
		if err := decodeSection(cfg.Filesystem, &fsCfg); err != nil {
			return nil, fmt.Errorf("invalid filesystem config: %w", err)
		}
		if fsCfg.Path == "" {
			return nil, fmt.Errorf("filesystem content store: path is required")
		}
		logger.Info("Filesystem content store initialized: path=%s", fsCfg.Path)
		return content.NewFSStore(fsCfg.Path)
	case "s3":
		return createS3ContentStore(ctx, cfg.S3)
	case "minio":
		var minioCfg content.MinIOConfig
		if err := decodeSection(cfg.MinIO, &minioCfg); err != nil {
			return nil, fmt.Errorf("invalid minio config: %w", err)
		}
		store, err := content.NewMinIOStore(ctx, minioCfg)
		if err != nil {
			return nil, err
		}
		logger.Info("MinIO content store initialized: endpoint=%s, bucket=%s", minioCfg.Endpoint, minioCfg.Bucket)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown content store type: %q (supported: filesystem, s3, minio)", cfg.Type)
	}
}

func createS3ContentStore(ctx context.Context, options map[string]any) (content.Store, error) {
	var storeCfg s3Config
	if err := decodeSection(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("invalid s3 config: %w", err)
	}
	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 content store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 content store: region is required")
	}

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(storeCfg.Region),
	}
	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(storeCfg.AccessKeyID, storeCfg.SecretAccessKey, ""),
		))
	}
	maxRetries := storeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// MinIO and Localstack need path-style addressing.
		if storeCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(storeCfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	store, err := content.NewS3Store(client, storeCfg.Bucket, storeCfg.KeyPrefix)
	if err != nil {
		return nil, err
	}
	logger.Info("S3 content store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)
	return store, nil
}
